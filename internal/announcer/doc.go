// Package announcer fans job lifecycle and progress events out to streaming
// observers such as the /api/events SSE endpoint.
//
// Every listener owns a buffer of ListenerBuffer frames. Broadcasting never
// blocks: a listener whose buffer is full is dropped and its channel closed,
// so slow consumers lose the stream rather than stalling the pipeline.
package announcer
