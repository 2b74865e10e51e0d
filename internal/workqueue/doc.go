// Package workqueue provides a deferred, serialized work context.
//
// Work submitted from time-critical contexts (timer callbacks, event delivery)
// is executed later on a dedicated worker goroutine, in submission order, so
// that slow calls such as link-layer parameter updates never run on the
// submitting goroutine.
package workqueue
