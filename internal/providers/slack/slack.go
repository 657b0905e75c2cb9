// Package slack syncs Slack workspaces.
package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/STRATINT/connectors/internal/worker"
)

const pageSize = 200

// API validates Slack bot tokens and lists the channels a bot can read.
type API struct {
	// apiURL overrides https://slack.com/api/ when set; it must end with a slash.
	apiURL string
}

// NewAPI creates a Slack remote. An empty apiURL uses the public API.
func NewAPI(apiURL string) *API {
	return &API{apiURL: apiURL}
}

func (a *API) client(token string) *slack.Client {
	if a.apiURL == "" {
		return slack.New(token)
	}
	return slack.New(token, slack.OptionAPIURL(a.apiURL))
}

// Validate runs auth.test and returns the team id.
func (a *API) Validate(ctx context.Context, token string) (string, error) {
	resp, err := a.client(token).AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("unable to get bot identity: %w", err)
	}
	if resp.TeamID == "" {
		return "", fmt.Errorf("auth.test returned no team")
	}
	return resp.TeamID, nil
}

// Sync pages through every conversation visible to the bot.
func (a *API) Sync(ctx context.Context, token string, progress worker.ProgressFunc) error {
	client := a.client(token)
	params := &slack.GetConversationsParameters{
		Types:           []string{"public_channel", "private_channel"},
		Limit:           pageSize,
		ExcludeArchived: true,
	}

	total := 0
	for {
		channels, next, err := client.GetConversationsContext(ctx, params)
		if err != nil {
			return fmt.Errorf("error fetching channels: %w", err)
		}
		total += len(channels)
		progress(fmt.Sprintf("%d channels", total))

		if next == "" {
			return nil
		}
		params.Cursor = next
	}
}
