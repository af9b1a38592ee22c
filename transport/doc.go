/*
Package transport provides duplex, ordered, reliable byte streams between a controlling application and the visualization processes it launches.

There are four implementations behind one Transport interface: TCP, Unix domain sockets, Windows named pipes, and a WebSocket tunnel that carries the byte stream as binary WebSocket messages so that only an HTTP server is needed on the far side. The "ipc" kind resolves to Unix sockets or named pipes depending on the platform.

Connectors dial with a bounded number of attempts and a fixed delay between them, since visualization processes are usually still starting up when the controller first dials. Listeners never retry; Accept blocks until a peer connects or the context is done.

Transports return raw I/O errors from Read and Write so that io.EOF and io.ReadFull behave as usual. Errors from dialing, binding and accepting wrap ErrIo.
*/
package transport
