// Package mtypes holds the types shared by the playback cache packages:
// the Song model and the error taxonomy every tier reports with.
package mtypes
