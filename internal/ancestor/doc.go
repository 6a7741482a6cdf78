// Package ancestor resolves the common ancestor of several streamed chains.
//
// Every chain is read descendant-to-ancestor through its own Frontier. Each round the
// chains at the highest current height are advanced and all others are held, so no
// chain is rewound past a height another chain has not reached yet. Resolution ends
// when every frontier agrees on (number, parent hash), when any chain is exhausted, or
// when any stream fails. Parent hashes are compared, never recomputed.
package ancestor
