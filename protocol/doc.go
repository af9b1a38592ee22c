/*
Package protocol carries typed messages between a controller and a visualization process over a transport.Transport.

Each message travels in one frame: a 4-byte little-endian length followed by that many payload bytes. The payload uses protobuf wire encoding with the message kind in field 1 and the variant body in field 2, so unknown fields added by newer peers are skipped.

An Endpoint is bound to a Role, and the role decides which message kinds it may send and receive. ControllerEndpoint and VisualizationEndpoint expose only the operations their role is allowed to use.
*/
package protocol
