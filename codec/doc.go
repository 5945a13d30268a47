/*
Package codec converts between pickle object graphs and interchange documents.

A document is an object graph restricted to what JSON can carry: *pickle.Dict
with string keys, []interface{}, string, int64, *big.Int, float64, bool and
nil. Graph values JSON has no shape for are tagged:

	tuple       {"__tuple__": 3, "__items__": [1, 2, 3]}
	byte string {"__bytestring__": true, "__string__": "café"}

The byte string tag holds the raw bytes read as ISO-8859-1, so every byte
value survives. Non-text dict keys are stringified, and decoding turns every
key that reads as an integer back into an integer.

A mapping someone wrote by hand with exactly the two keys of a tag, and the
right value types, is read back as that tag. Encoding a document a second
time returns it unchanged.

Marshal and Unmarshal move documents to and from JSON while keeping dict
order. Unmarshal also accepts JSONC: comments and trailing commas.
*/
package codec
