//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"cinematch/domain"
	"context"
	"reflect"
)

// IMatchAPI is the remote matching service.
type IMatchAPI interface {
	FetchCandidates(ctx context.Context) ([]domain.CandidateRecord, error)
	Accept(ctx context.Context, req domain.MatchRequest) (domain.AcceptResult, error)
	Decline(ctx context.Context, req domain.MatchRequest) error
}

// IChatAPI is the pull side of chat: history, durable leave and room listing.
type IChatAPI interface {
	FetchMessages(ctx context.Context, roomID string, limit int) ([]domain.MessageRecord, error)
	Leave(ctx context.Context, roomID string) error
	Rooms(ctx context.Context) ([]domain.ConversationRecord, error)
}

// IHub is the push side: room scoped subscriptions and fire-and-forget sends.
type IHub interface {
	JoinRoom(ctx context.Context, roomID string) error
	LeaveRoom(ctx context.Context, roomID string) error
	SendMessage(ctx context.Context, roomID, content string) error
}

type IMembershipStore interface {
	Get(userID, roomID string) (domain.RoomMembership, bool, error)
	Save(membership domain.RoomMembership) error
	List(userID string) ([]domain.RoomMembership, error)
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker is a long running loop. It returns nil once it is done for good,
// an error or a panic gets it restarted by its supervisor.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName is the worker type name, used in supervision logs.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
