package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/internal/httpclient"
	"github.com/slatehq/slate/internal/util"
	"github.com/slatehq/slate/studio/jobs"
)

// JobsCmd groups job subcommands that talk to a running server.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List, inspect, and cancel jobs on a running server",
}

var (
	jobsServerURL  string
	jobsStatusFlag string
	jobsLimitFlag  int
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if jobsStatusFlag != "" {
			q.Set("status", jobsStatusFlag)
		}
		if jobsLimitFlag > 0 {
			q.Set("limit", strconv.Itoa(jobsLimitFlag))
		}
		path := "/api/jobs"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var resp struct {
			Jobs  []*jobs.Job `json:"jobs"`
			Count int         `json:"count"`
		}
		if err := apiGet(path, &resp); err != nil {
			return err
		}

		if resp.Count == 0 {
			pterm.Info.Println("No jobs found")
			return nil
		}

		data := pterm.TableData{{"ID", "TOPIC", "STATUS", "STAGE", "PROGRESS", "SCHEDULED"}}
		for _, j := range resp.Jobs {
			data = append(data, []string{
				j.ID,
				truncate(j.Topic, 40),
				string(j.Status),
				string(j.Stage),
				fmt.Sprintf("%d%%", j.ProgressPercent),
				j.ScheduledAt.Local().Format("2006-01-02 15:04"),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var job jobs.Job
		if err := apiGet("/api/jobs/"+url.PathEscape(args[0]), &job); err != nil {
			return err
		}
		output, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return errors.Wrap(err, "formatting job")
		}
		fmt.Println(string(output))
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var job jobs.Job
		if err := apiPost("/api/jobs/"+url.PathEscape(args[0])+"/cancel", &job); err != nil {
			return err
		}
		pterm.Success.Printfln("Job %s cancelled", job.ID)
		return nil
	},
}

func init() {
	JobsCmd.PersistentFlags().StringVar(&jobsServerURL, "server", "http://localhost:8000", "Base URL of a running slate server")
	jobsListCmd.Flags().StringVar(&jobsStatusFlag, "status", "", "Filter by status (scheduled, running, completed, failed, cancelled, paused)")
	jobsListCmd.Flags().IntVar(&jobsLimitFlag, "limit", 0, "Limit number of jobs returned")

	JobsCmd.AddCommand(jobsListCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
}

// apiClient returns a client suitable for talking to a local server. The
// private-address guard is off: the whole point is reaching localhost.
func apiClient() *httpclient.SaferClient {
	return httpclient.NewSaferClientWithOptions(10*time.Second, httpclient.SaferClientOptions{
		BlockPrivateIP: util.Ptr(false),
	})
}

func apiGet(path string, out interface{}) error {
	resp, err := apiClient().Get(jobsServerURL + path)
	if err != nil {
		return errors.Wrap(err, "is the server running? start it with: slate server")
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

func apiPost(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodPost, jobsServerURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	resp, err := apiClient().Do(req)
	if err != nil {
		return errors.Wrap(err, "is the server running? start it with: slate server")
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

func decodeAPIResponse(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Detail != "" {
			return errors.Newf("server: %s", apiErr.Detail)
		}
		return errors.Newf("server returned %s", resp.Status)
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decoding response")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
