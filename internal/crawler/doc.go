// Package crawler holds the shared data model and the collaborator
// interfaces of the crawl orchestration engine: jobs, frontier entries,
// work units, crawl results, and the contracts the frontier, dedup store,
// rate controller, workers, and sinks agree on.
package crawler
