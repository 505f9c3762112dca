package docgraph

import (
	"time"

	"graphony/pkg/common"
)

// Document is the read-only view of one document exposed by the graph
// provider: identity plus the metadata the sonification engine maps onto
// musical parameters.
type Document struct {
	ID        string    `json:"id"`
	Folder    string    `json:"folder"`
	FileType  string    `json:"file_type"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	SizeProxy int64     `json:"size_proxy"`
}

// Link is a directed edge between two documents.
type Link struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Provider exposes the document graph to the traversal layer. The engine
// only ever reads through this interface, it never mutates the underlying
// store.
type Provider interface {
	Document(id string) (Document, bool)
	OutgoingLinks(id string) []Link
	IncomingLinks(id string) []Link
}

// Snapshot is an immutable in-memory Provider built once from a set of
// documents and links. Traversal over a fixed snapshot with fixed
// parameters is idempotent.
type Snapshot struct {
	docs     map[string]Document
	outgoing map[string][]Link
	incoming map[string][]Link
}

// NewSnapshotParams contains the documents and links a snapshot is built
// from. Links referencing unknown documents are dropped.
type NewSnapshotParams struct {
	Documents []Document
	Links     []Link
}

// NewSnapshot builds an immutable graph snapshot.
func NewSnapshot(params NewSnapshotParams) *Snapshot {
	s := &Snapshot{
		docs:     make(map[string]Document, len(params.Documents)),
		outgoing: make(map[string][]Link),
		incoming: make(map[string][]Link),
	}
	for _, doc := range params.Documents {
		s.docs[doc.ID] = doc
	}
	for _, link := range params.Links {
		if _, ok := s.docs[link.From]; !ok {
			continue
		}
		if _, ok := s.docs[link.To]; !ok {
			continue
		}
		s.outgoing[link.From] = append(s.outgoing[link.From], link)
		s.incoming[link.To] = append(s.incoming[link.To], link)
	}
	return s
}

// Document returns the document with the given id, if present.
func (s *Snapshot) Document(id string) (Document, bool) {
	doc, ok := s.docs[id]
	return doc, ok
}

// OutgoingLinks returns the links originating at id.
func (s *Snapshot) OutgoingLinks(id string) []Link {
	return s.outgoing[id]
}

// IncomingLinks returns the links pointing at id.
func (s *Snapshot) IncomingLinks(id string) []Link {
	return s.incoming[id]
}

// Direction classifies how neighbor was reached from id: bidirectional when
// links exist both ways, otherwise the direction of the single edge.
func Direction(p Provider, id, neighbor string) common.LinkDirection {
	var out, in bool
	for _, l := range p.OutgoingLinks(id) {
		if l.To == neighbor {
			out = true
			break
		}
	}
	for _, l := range p.IncomingLinks(id) {
		if l.From == neighbor {
			in = true
			break
		}
	}
	switch {
	case out && in:
		return common.LinkBidirectional
	case in:
		return common.LinkIncoming
	default:
		return common.LinkOutgoing
	}
}
