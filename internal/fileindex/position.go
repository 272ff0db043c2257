package fileindex

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sha1n/mcp-fileindex-server/internal/domain"
)

// Internal keys committed alongside documents. The same keys are used for
// reading and writing.
var (
	positionKey = []byte("fileindex.position")
	instanceKey = []byte("fileindex.instance")
)

// internalReader is satisfied by both the writer and a searcher snapshot.
type internalReader interface {
	GetInternal(key []byte) ([]byte, error)
}

func encodePosition(p domain.Position) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(p))
	return b
}

// decodePosition decodes a committed position; an absent value is position 0.
func decodePosition(b []byte) (domain.Position, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if len(b) != 8 {
		return 0, corruption("position marker", fmt.Errorf("unexpected length %d", len(b)))
	}
	return domain.Position(binary.BigEndian.Uint64(b)), nil
}

// readPosition returns the position recorded by the most recent commit.
func readPosition(r internalReader) (domain.Position, error) {
	b, err := r.GetInternal(positionKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read position marker: %w", err)
	}
	return decodePosition(b)
}

// readInstance returns the ID assigned to the index when it was created.
func readInstance(r internalReader) (string, error) {
	b, err := r.GetInternal(instanceKey)
	if err != nil {
		return "", fmt.Errorf("failed to read instance id: %w", err)
	}
	return string(b), nil
}

// isIndexStateValid checks that the index does not claim changes the primary store lacks.
func isIndexStateValid(ctx context.Context, r internalReader, accessor domain.Accessor) error {
	committed, err := readPosition(r)
	if err != nil {
		return err
	}
	last, err := accessor.GetLastPosition(ctx)
	if err != nil {
		return fmt.Errorf("failed to read primary store position: %w", err)
	}
	if committed > last {
		return corruption("position sanity check",
			fmt.Errorf("%w: index at %s, primary store at %s", ErrIndexAhead, committed, last))
	}
	return nil
}
