package valkey

import (
	"context"
	"sort"
	"time"

	"github.com/giantswarm/authz-server/storage"
)

// ============================================================
// ClientRegistry
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_client", err, startTime) }()

	if err = client.Validate(); err != nil {
		return err
	}
	c := client.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	data, err := encodeClient(c)
	if err != nil {
		return err
	}
	if err = s.client.Do(ctx, s.client.B().Set().Key(s.clientKey(c.ClientID)).Value(data).Build()).Error(); err != nil {
		return unavailable("save client", err)
	}

	s.logger.Debug("Saved client", "client_id", c.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (c *storage.Client, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_client", err, startTime) }()

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(clientID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, unavailable("get client", err)
	}
	return decodeClient(data)
}

// DeleteClient removes a client. Tokens already issued to it are left to
// expire.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.clientKey(clientID)).Build()).Error(); err != nil {
		return unavailable("delete client", err)
	}
	s.logger.Debug("Deleted client", "client_id", clientID)
	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	// SCAN can return duplicates across iterations
	clientMap := make(map[string]*storage.Client)

	err := s.scanKeys(ctx, s.clientKey("*"), func(key string) error {
		if _, exists := clientMap[key]; exists {
			return nil
		}
		data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
		if err != nil {
			if isNilError(err) {
				return nil // deleted between SCAN and GET
			}
			return unavailable("list clients", err)
		}
		c, err := decodeClient(data)
		if err != nil {
			s.logger.Warn("Failed to unmarshal client, skipping", "key", key, "error", err)
			return nil
		}
		clientMap[key] = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	clients := make([]*storage.Client, 0, len(clientMap))
	for _, c := range clientMap {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ClientID < clients[j].ClientID })
	return clients, nil
}
