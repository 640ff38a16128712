// Package meting fetches playlists from a Meting API instance and persists
// the selected platform and playlist.
package meting
