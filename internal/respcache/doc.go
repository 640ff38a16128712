// Package respcache implements named response caches keyed by request URL.
//
// A Storage holds any number of named caches; each Cache maps a URL to the
// Response that was fetched for it. Opaque responses (cross-origin fetches the
// caller is not allowed to inspect) are stored like any other, but report no
// size.
package respcache
