// Package vfs is the file system seen by scripts.
//
// Reads search an ordered list of sources (raw directories, game, map,
// base and menu archives) selected by a Mode string such as "rMmeb".
// Writes go to raw directories only, below configured prefixes. Every path
// is checked before any underlying tree is consulted:
//
//   - no absolute or drive-qualified paths
//   - no ".." segment anywhere
//   - writes never touch protected config files or executable extensions
//
// Refusals are *fs.PathError values carrying EACCES or EINVAL.
package vfs
