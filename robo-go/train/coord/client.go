package coord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/robomosaic/robomosaic/robo-golib/errors"
)

const defaultPollInterval = 100 * time.Millisecond

// Client lets one rank wait at named barriers served by a coordinator.
type Client struct {
	endpoint  string
	rank      int
	worldSize int

	httpClient *http.Client
	poll       time.Duration
}

// NewClient points a rank at the coordinator endpoint, e.g. "http://host:3030".
func NewClient(endpoint string, rank, worldSize int) *Client {
	return &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		rank:       rank,
		worldSize:  worldSize,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		poll:       defaultPollInterval,
	}
}

// Barrier blocks until every rank in the world has arrived at the named barrier, or
// the context is done.
func (c *Client) Barrier(ctx context.Context, name string) error {
	gen, err := c.arrive(ctx, name)
	if err != nil {
		return err
	}

	for {
		released, err := c.status(ctx, name, gen)
		if err != nil {
			return err
		}
		if released {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "abandoned barrier %s", name)
		case <-time.After(c.poll):
		}
	}
}

func (c *Client) arrive(ctx context.Context, name string) (int, error) {
	buf, err := json.Marshal(ArriveRequest{Rank: c.rank, WorldSize: c.worldSize})
	if err != nil {
		return 0, err
	}

	u := fmt.Sprintf("%s/barrier/%s/arrive", c.endpoint, url.PathEscape(name))
	req, err := http.NewRequest("POST", u, bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	req = req.WithContext(ctx)

	var resp ArriveResponse
	if err := c.do(req, &resp); err != nil {
		return 0, errors.Wrapf(err, "error arriving at barrier %s", name)
	}
	return resp.Generation, nil
}

func (c *Client) status(ctx context.Context, name string, gen int) (bool, error) {
	u := fmt.Sprintf("%s/barrier/%s/status?generation=%d", c.endpoint, url.PathEscape(name), gen)
	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return false, err
	}
	req = req.WithContext(ctx)

	var resp StatusResponse
	if err := c.do(req, &resp); err != nil {
		return false, errors.Wrapf(err, "error polling barrier %s", name)
	}
	return resp.Released, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("coordinator returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
