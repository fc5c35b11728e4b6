// Package saga wires the carousel pipeline onto a bus as independent
// consumers.
//
// Each consumer subscribes to one event type, makes one call to an external
// collaborator, and emits exactly one event that continues the chain:
//
//	carousel.generate.requested   -> Validator   -> content.analysis.requested
//	content.analysis.requested    -> Analyst     -> content.analysis.completed
//	content.analysis.completed    -> Composer    -> carousel.slides.generated
//	carousel.slides.generated     -> Illustrator -> carousel.images.rendered
//	carousel.images.rendered      -> Publisher   -> carousel.generate.completed
//
// A request that fails validation ends at carousel.generate.failed. A
// collaborator call that fails on every retry surfaces on the bus as
// workflow.handler.failed, which the FailureRouter turns into
// carousel.generate.failed. Nothing resumes a failed saga.
//
// No consumer holds saga state. Trace rebuilds a saga's progress from the
// bus history using only the correlation id.
package saga
