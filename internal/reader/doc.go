// Package reader implements the sandboxed markdown reader core.
//
// Every operation goes through a Sandbox that confines filesystem access
// to a single configured root: traversal sequences, absolute paths,
// alternate separators, NUL bytes, and symlink escapes are all rejected
// before any file is touched.
//
// On top of the sandbox the Service provides:
//   - List/Walk: lazy one-level tree listing and bounded recursion
//   - Load/Raw: size-capped document rendering (front matter, GFM,
//     sanitized HTML, TOC) and raw asset bytes
//   - SearchNames/SearchContent: cached, cancellable search
//   - WriteZip/WriteTarGz: streamed subtree export
//   - Watcher: recursive change notification with fan-out
package reader
