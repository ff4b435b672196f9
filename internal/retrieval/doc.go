// Package retrieval implements the vector search collaborator of the
// search stage.
//
// Two backends are provided: QdrantRetriever for a shared Qdrant cluster
// and ChromemRetriever for the embedded chromem-go store. Both read the
// same document layout, with access metadata under "permissions", and
// return conversation.Candidate values carrying it.
package retrieval
