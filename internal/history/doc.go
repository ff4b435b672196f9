// Package history stores the per-query audit records written by the log
// stage and answers the topic statistics the gap detector needs.
//
// MemoryStore groups records by their normalized topic key. QdrantStore
// keeps records as points in the conversations collection and groups them
// by embedding similarity instead, which also catches paraphrases.
// Published gap suggestions go to a separate collection so a documentation
// team can review them.
package history
