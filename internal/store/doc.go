// Package store declares the crawl run ledger used for audit and status reporting.
package store
