// Package crawler defines the domain types shared by the sitemap crawl pipeline:
// sitemap and URL entries, selector definitions, index records, the
// transport request/response pair, and the interfaces of the collaborators
// (search index, HTTP transport, blob archive, clock) the pipeline talks to.
package crawler
