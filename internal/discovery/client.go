package discovery

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/uno/internal/session"
)

// Client calls the Discovery service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// ListSessions returns the public session listing.
//
// Postcondition: Returns an error if the call fails or any entry is malformed.
func (c *Client) ListSessions(ctx context.Context, opts ...grpc.CallOption) ([]session.Summary, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listSessionsMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return decodeListing(out)
}

func decodeListing(s *structpb.Struct) ([]session.Summary, error) {
	entries := s.GetFields()["sessions"].GetListValue().GetValues()
	summaries := make([]session.Summary, 0, len(entries))
	for i, v := range entries {
		fields := v.GetStructValue().GetFields()
		id, err := uuid.Parse(fields["id"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("session %d: invalid id: %w", i, err)
		}
		summaries = append(summaries, session.Summary{
			ID:     id,
			GameID: fields["game_id"].GetStringValue(),
		})
	}
	return summaries, nil
}
