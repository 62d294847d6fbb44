// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/peertunnel/lib/netutil"
)

// CreateRoom asks the signaling server at serverURL for a new room and
// returns its id. A nil client uses http.DefaultClient.
func CreateRoom(ctx context.Context, client *http.Client, serverURL *url.URL) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL.JoinPath("rooms").String(), nil)
	if err != nil {
		return "", err
	}

	response, err := client.Do(request)
	if err != nil {
		return "", fmt.Errorf("creating room: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("creating room: %s: %s", response.Status, netutil.ErrorBody(response.Body))
	}

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return "", fmt.Errorf("reading room id: %w", err)
	}

	roomID := strings.TrimSpace(string(body))
	if roomID == "" {
		return "", fmt.Errorf("creating room: server returned an empty room id")
	}
	return roomID, nil
}
