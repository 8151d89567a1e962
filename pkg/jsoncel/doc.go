// Package jsoncel resolves {{ expression }} templates against
// a JSON-shaped execution context using CEL.
//
// Each expression is evaluated with every top-level context key
// bound as a variable, plus 'this' for the whole context so that
// keys which are not valid identifiers can be reached with
// this["my-key"]. Prefixing an expression with 'json' renders the
// value as indented JSON:
//
//	{{ http1.data.items }}
//	{{ json http1.data }}
package jsoncel
