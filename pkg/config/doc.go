// Package config defines the YAML configuration for quotad.
//
// Configuration is loaded in three steps: parse the file, apply defaults,
// validate. Environment variables of the form QUOTAD_SECTION_FIELD override
// file values. The quota policy section (tier defaults and the global
// default limit) can be hot-reloaded at runtime via the file watcher, so
// changing the business rule is a data change, not a deploy.
package config
