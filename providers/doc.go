// Package providers lists the built-in delivery platform adapters. Each
// adapter lives in its own subpackage and knows one platform's payload,
// signing scheme and status vocabulary.
package providers
