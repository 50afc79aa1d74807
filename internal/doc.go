// Package internal contains the implementation packages of pagebuild.
//
// # Package Organization
//
//   - naming: component name and bundle path derivation from source paths
//   - scanner: recursive discovery of page sources
//   - build: bootstrap generation and in-process bundling with esbuild
//   - registry: component metadata index, its JSON store and the resolver
//   - orchestrator: full builds, per-file locks and watch event handling
//   - watcher: recursive fsnotify watching
//   - hydrate: templ components for the hydration shell
//   - server: preview server with live reload over websockets
//   - metrics: Prometheus collectors on a private registry
//   - config: viper-backed configuration
//   - logging, errors: structured logging and typed errors
//   - version: build identity
//
// # Flow
//
// "pagebuild build" scans the root, bundles every page and rewrites the
// metadata file. "pagebuild watch" does the same, then feeds watcher
// events to the orchestrator, which builds new pages and removes bundles
// of deleted ones while the registry mirrors every change to disk.
package internal
