// Package literal parses values typed by people, on the command line or in
// HTTP requests, into value.Value.
//
// The syntax is CUE:
//
//	42
//	"hello"
//	[1, 2, 3]
//	{w: 640, h: 480}
//	{"$ref": "root/child"}
//
// The input must be concrete. Struct fields keep their declaration order.
package literal
