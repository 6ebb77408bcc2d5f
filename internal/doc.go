// Package internal contains the implementation packages of rain.
//
// # Package Organization
//
//   - parser: streaming view parser that turns component tags into placeholders
//   - renderer: per-view renderer tree with parallel fan-out and a fan-in barrier
//   - component: component descriptors, container, folder scanner and tag mapping
//   - taglib: built-in rain: tags (css, script, locale, controller, include)
//   - resource: cached asynchronous template and file loading
//   - locale: per-component translations selected by language matching
//   - session: session store with optional mothership replication
//   - server: HTTP front end and live reload websocket
//   - services: assembly of the above for the CLI
//   - watcher: debounced file system notifications
//   - config, errors, logging, version: ambient support
//
// # Request Flow
//
// A request path resolves to a component. Its view is loaded and parsed;
// every component tag found becomes a child renderer that loads and parses
// in parallel. A renderer renders once all its children have, so the root
// renders last and assembles the whole tree into one document or result.
package internal
