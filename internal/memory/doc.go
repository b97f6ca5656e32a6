// Package memory implements the per-user memory graph.
//
// Nodes are titled markdown documents linked by refs. A virtual root node
// (RootID) is never stored; reading it returns every node that no other
// node references. Writing a node links it into each named parent's refs.
//
// When an update carries a change description and the node's blake3
// content hash changed, the previous state is archived as a
// MemoryNodeVersion and the version number advances.
//
// Search ranks nodes with BM25 over title, description and content,
// weighted 3, 2 and 1.
package memory
