// Package webhooks contains the reception side of the hub: signature
// verification, dedup-key derivation, the Receiver that durably logs each
// delivery, and the Dispatcher that hands logged events to the pipeline.
//
// A delivery is acknowledged once it is logged as RECEIVED and its dedup key
// is reserved. Everything after that runs asynchronously and never changes
// the response the provider already got.
package webhooks
