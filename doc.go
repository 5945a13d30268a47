/*
Package pcksafe converts Mailman 2 list configurations between the pickle
format Mailman writes and JSON.

Decoding never happens in the calling process. A Converter checks the size
of the blob, resolves the account owning the lists and hands the open file
to a worker that runs chrooted into an empty directory as that account
(see package sandbox). Only class references on the allow-list are
resolved, and no code of any class runs.

Tuples and byte strings that JSON cannot express are written as tagged
objects:

	{"__tuple__": 2, "__items__": [1, 2]}
	{"__bytestring__": true, "__string__": "café"}

Encode reverses the conversion and writes a protocol 2 pickle that
Python 2 reads back as the original structure.
*/
package pcksafe
