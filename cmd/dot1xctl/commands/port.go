package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

// portSnapshot mirrors the daemon's port snapshot JSON.
type portSnapshot struct {
	Index          int    `json:"index"`
	SourceMAC      string `json:"source_mac"`
	SupplicantMAC  string `json:"supplicant_mac"`
	PortEnabled    bool   `json:"port_enabled"`
	AuthPortStatus string `json:"auth_port_status"`
	PaeState       string `json:"pae_state"`
	BackendState   string `json:"backend_state"`
	ReauthState    string `json:"reauth_timer_state"`
	EapState       string `json:"eap_state"`
	Identity       string `json:"identity"`
	Counters       struct {
		EapolFramesRx          uint64 `json:"EapolFramesRx"`
		EapolFramesTx          uint64 `json:"EapolFramesTx"`
		EapolStartFramesRx     uint64 `json:"EapolStartFramesRx"`
		EapolLogoffFramesRx    uint64 `json:"EapolLogoffFramesRx"`
		InvalidEapolFramesRx   uint64 `json:"InvalidEapolFramesRx"`
		EapLengthErrorFramesRx uint64 `json:"EapLengthErrorFramesRx"`
		SessionTime            uint64 `json:"SessionTime"`
	} `json:"counters"`
}

func portCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "Inspect and manage 802.1X ports",
	}
	cmd.AddCommand(portListCmd())
	cmd.AddCommand(portShowCmd())
	cmd.AddCommand(portSetCmd())
	cmd.AddCommand(portInitCmd())
	cmd.AddCommand(portReauthCmd())
	return cmd
}

func portListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all ports",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var ports []portSnapshot
			if err := apiGet("/api/v1/ports", &ports); err != nil {
				return err
			}
			out, err := formatPorts(ports, outputFormat)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func portShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <port>",
		Short: "Show details of one port",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("port %q: %w", args[0], err)
			}
			var snap portSnapshot
			if err := apiGet(fmt.Sprintf("/api/v1/ports/%d", port), &snap); err != nil {
				return err
			}
			out, err := formatPort(snap, outputFormat)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func portSetCmd() *cobra.Command {
	var validateOnly bool

	cmd := &cobra.Command{
		Use:   "set <port> <parameter> <value>",
		Short: "Set a managed port parameter",
		Long: "Sets one of: port_control, quiet_period, server_timeout, " +
			"reauth_period, reauth_enabled, key_tx_enabled.",
		Args: cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("port %q: %w", args[0], err)
			}
			body := map[string]any{
				"name":          args[1],
				"value":         args[2],
				"validate_only": validateOnly,
			}
			return apiPost(fmt.Sprintf("/api/v1/ports/%d/parameters", port), body)
		},
	}
	cmd.Flags().BoolVar(&validateOnly, "validate-only", false,
		"validate the parameter without committing it")
	return cmd
}

func portInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <port>",
		Short: "Reinitialize a port",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("port %q: %w", args[0], err)
			}
			return apiPost(fmt.Sprintf("/api/v1/ports/%d/initialize", port), nil)
		},
	}
}

func portReauthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reauth <port>",
		Short: "Trigger reauthentication on a port",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("port %q: %w", args[0], err)
			}
			return apiPost(fmt.Sprintf("/api/v1/ports/%d/reauthenticate", port), nil)
		},
	}
}

// apiGet fetches a JSON document from the daemon.
func apiGet(path string, out any) error {
	resp, err := httpClient.Get(baseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// apiPost sends a JSON body to the daemon.
func apiPost(path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
	}
	resp, err := httpClient.Post(baseURL+path, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(path, resp)
	}
	return nil
}

// apiError extracts the error message from a non-OK response.
func apiError(path string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return fmt.Errorf("%s: %s (%s)", path, body.Error, resp.Status)
	}
	return fmt.Errorf("%s: %s", path, resp.Status)
}
