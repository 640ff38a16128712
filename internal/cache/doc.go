// Package cache coordinates the playback client's cache tiers: the
// process-local ResourceCache, the durable PlaylistStore and the named
// response caches warmed by the prefetch engine. Coordinator aggregates
// statistics across every tier and clears them by category.
package cache
