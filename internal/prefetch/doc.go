// Package prefetch warms the streaming response cache for a playlist.
//
// A prefetch run takes the first MaxSongs distinct song URLs, fetches each
// one sequentially and stores successful or opaque responses. Runs are
// throttled per (source, id) by a durable timestamp so a playlist is warmed at
// most once per window unless forced.
package prefetch
