// Package registry holds the immutable subscription registry.
//
// A Registry value is never modified. Add, Remove and SetEnabled return a
// new snapshot and leave the receiver untouched, so a snapshot can be read
// from any goroutine without locking:
//
//	reg := registry.Empty()
//	reg, id := reg.Add(event.CarouselSlidesGenerated, renderer, 10)
//	subs := reg.ListFor(event.CarouselSlidesGenerated)
//
// Subscriptions for one type are ordered by descending priority. Equal
// priorities keep registration order.
package registry
