// Package scrape defines the canonical record types, error taxonomy, and
// interfaces shared by the crawl pipeline subsystems.
package scrape
