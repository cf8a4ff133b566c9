package coremain

import (
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var svcConfig = &service.Config{
	Name:        "swiftdns",
	DisplayName: "swiftdns",
	Description: "Latency-optimized authoritative/forwarding DNS resolver.",
}

// serverService adapts StartServer to the kardianos/service.Interface
// contract so the resolver can run under systemd, launchd, or Windows
// service control in addition to a plain foreground process.
type serverService struct {
	f       *serverFlags
	errChan chan error
}

func (s *serverService) Start(svc service.Service) error {
	s.errChan = make(chan error, 1)
	go func() {
		s.errChan <- StartServer(s.f)
	}()
	return nil
}

func (s *serverService) Stop(svc service.Service) error {
	RequestShutdown()
	return nil
}

func initService(cmd *cobra.Command, args []string) error {
	return nil
}

func newSvc() (service.Service, error) {
	return service.New(&serverService{f: new(serverFlags)}, svcConfig)
}

func newSvcInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install swiftdns as a system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			return svc.Install()
		},
	}
}

func newSvcUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall the swiftdns system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			return svc.Uninstall()
		},
	}
}

func newSvcStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the swiftdns system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			return svc.Start()
		},
	}
}

func newSvcStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the swiftdns system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			return svc.Stop()
		},
	}
}

func newSvcRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the swiftdns system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			return svc.Restart()
		},
	}
}

func newSvcStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the swiftdns system service's status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			st, err := svc.Status()
			if err != nil {
				return err
			}
			fmt.Println(serviceStatusString(st))
			return nil
		},
	}
}

func serviceStatusString(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
