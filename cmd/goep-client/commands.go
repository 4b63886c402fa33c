package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/backkem/goep/pkg/discovery"
	"github.com/backkem/goep/pkg/goep"
	"github.com/backkem/goep/pkg/obex"
	"github.com/spf13/cobra"
)

// serviceTargets are the OBEX Target headers of the profiles that use one.
var serviceTargets = map[discovery.ServiceID][]byte{
	discovery.ServiceFileTransfer:        mustHex("F9EC7BC4953C11D2984E525400DC9E09"),
	discovery.ServicePhonebookAccess:     mustHex("796135F0F0C511D809660800200C9A66"),
	discovery.ServiceMessageAccess:       mustHex("BB582B40420C11DBB0DE0800200C9A66"),
	discovery.ServiceMessageNotification: mustHex("BB582B41420C11DBB0DE0800200C9A66"),
	discovery.ServiceImagingResponder:    mustHex("E33D95454DD911D0A8B800A0C90C7D6B"),
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

var targetFlag string

// targetFor returns the Target header for service, honoring --target.
func targetFor(service discovery.ServiceID) ([]byte, error) {
	if targetFlag != "" {
		b, err := hex.DecodeString(strings.ReplaceAll(targetFlag, "-", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid --target: %w", err)
		}
		return b, nil
	}
	return serviceTargets[service], nil
}

// withSession resolves and connects service, runs fn and disconnects.
func withSession(cmd *cobra.Command, serviceArg string, fn func(ctx context.Context, r *runner, s *obexSession) error) error {
	service, err := discovery.ParseServiceID(serviceArg)
	if err != nil {
		return err
	}
	target, err := targetFor(service)
	if err != nil {
		return err
	}

	r, err := newRunner(cfg, loggerFactory)
	if err != nil {
		return err
	}
	defer r.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
	defer cancel()

	h, err := r.open(ctx, service)
	if err != nil {
		return err
	}
	defer r.disconnect(ctx, h)

	resp, err := r.connect(ctx, h, target)
	if err != nil {
		return err
	}
	return fn(ctx, r, &obexSession{handle: h, connect: resp})
}

var discoverCmd = &cobra.Command{
	Use:   "discover <service>",
	Short: "Resolve the endpoint of a service on the peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := discovery.ParseServiceID(args[0])
		if err != nil {
			return err
		}
		r, err := newRunner(cfg, loggerFactory)
		if err != nil {
			return err
		}
		defer r.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
		defer cancel()

		res, err := discovery.Lookup(ctx, r.resolver, r.peer, service)
		if err != nil {
			return fmt.Errorf("discover %s: %w", service, err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "service:  %s (0x%s)\n", service, service.Hex())
		fmt.Fprintf(out, "endpoint: %d\n", res.Endpoint)
		if res.Name != "" {
			fmt.Fprintf(out, "name:     %s\n", res.Name)
		}
		if res.Host != "" {
			fmt.Fprintf(out, "host:     %s\n", res.Host)
		}
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <service>",
	Short: "Open an OBEX session and close it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, args[0], func(ctx context.Context, r *runner, s *obexSession) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session:         %d\n", s.handle)
			fmt.Fprintf(out, "mtu:             %d\n", r.client.MTU(s.handle))
			fmt.Fprintf(out, "peer max packet: %d\n", s.connect.MaxPacketLength)
			if id, ok := r.client.ConnectionID(s.handle); ok {
				fmt.Fprintf(out, "connection id:   0x%08X\n", id)
			}
			return nil
		})
	},
}

var (
	getType string
	getOut  string
)

var getCmd = &cobra.Command{
	Use:   "get <service> <name>",
	Short: "Fetch an object from the peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, args[0], func(ctx context.Context, r *runner, s *obexSession) error {
			body, err := s.get(ctx, r, args[1], getType)
			if err != nil {
				return err
			}
			if getOut == "" || getOut == "-" {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			return os.WriteFile(getOut, body, 0o644)
		})
	},
}

var (
	setPathUp       bool
	setPathNoCreate bool
)

var setPathCmd = &cobra.Command{
	Use:   "setpath <service> [folder...]",
	Short: "Change the current folder on the peer",
	Long: `Change the current folder one level per argument. With --up the
session first moves to the parent folder. With no folder and no --up
the session returns to the root folder.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, args[0], func(ctx context.Context, r *runner, s *obexSession) error {
			var flags uint8
			if setPathNoCreate {
				flags |= obex.SetPathNoCreate
			}

			folders := args[1:]
			if setPathUp {
				if err := s.setPath(ctx, r, flags|obex.SetPathBackup, "", false); err != nil {
					return err
				}
			} else if len(folders) == 0 {
				// An empty Name header selects the root folder.
				return s.setPath(ctx, r, flags, "", true)
			}
			for _, folder := range folders {
				if err := s.setPath(ctx, r, flags, folder, true); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "now in %s\n", folder)
			}
			return nil
		})
	},
}

// obexSession holds the state of one connected OBEX session.
type obexSession struct {
	handle  goep.Handle
	connect *obex.Response
}

// get runs a Get, repeating the request while the peer answers Continue.
func (s *obexSession) get(ctx context.Context, r *runner, name, mime string) ([]byte, error) {
	var body bytes.Buffer
	first := true
	for {
		resp, err := r.do(ctx, s.handle, func() error {
			if err := r.client.CreateGetRequest(s.handle); err != nil {
				return err
			}
			if !first {
				return nil
			}
			if err := r.client.AddHeaderName(s.handle, name); err != nil {
				return err
			}
			if mime != "" {
				return r.client.AddHeaderType(s.handle, mime)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", name, err)
		}
		first = false

		chunk, _ := resp.Body()
		body.Write(chunk)
		switch {
		case resp.Code == obex.ResponseContinue:
			continue
		case resp.Code.IsSuccess():
			return body.Bytes(), nil
		default:
			return nil, fmt.Errorf("get %s: %s", name, resp.Code)
		}
	}
}

// setPath changes the folder. withName adds the Name header even when
// folder is empty.
func (s *obexSession) setPath(ctx context.Context, r *runner, flags uint8, folder string, withName bool) error {
	resp, err := r.do(ctx, s.handle, func() error {
		if err := r.client.CreateSetPathRequest(s.handle, flags); err != nil {
			return err
		}
		if withName {
			return r.client.AddHeaderName(s.handle, folder)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("setpath %q: %w", folder, err)
	}
	if !resp.Code.IsSuccess() {
		return fmt.Errorf("setpath %q: %s", folder, resp.Code)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&targetFlag, "target", "", "OBEX Target header in hex (default: the service's well-known target)")

	getCmd.Flags().StringVar(&getType, "type", "", "MIME type of the object")
	getCmd.Flags().StringVarP(&getOut, "out", "o", "", "write the object to a file instead of stdout")

	setPathCmd.Flags().BoolVar(&setPathUp, "up", false, "move to the parent folder first")
	setPathCmd.Flags().BoolVar(&setPathNoCreate, "no-create", false, "fail instead of creating missing folders")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setPathCmd)
}
