package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/executor"
	"github.com/wostzone/wost-session/pkg/settings"
)

var invokeInterface string

var invokeCmd = &cobra.Command{
	Use:   "invoke service method [args...]",
	Short: "Invoke a service method statelessly",
	Long: `Invoke a method of a server service without a session.
Each call carries the credential. This works over http and mqtt.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		clientConfig, err := loadClientConfig()
		if err != nil {
			return err
		}
		ui := NewConsoleUI(os.Stdin, os.Stdout)
		m := newMetrics()
		info, err := createLoginInfo(clientConfig, ui)
		if err != nil {
			return err
		}
		comm := newRegistry(m).Lookup(transportID(info.ConnectionSettings(), settings.KindStateless))
		if comm == nil {
			return fmt.Errorf("protocol '%s' is not supported", clientConfig.Protocol)
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(clientConfig.Timeout)*time.Second)
		defer cancel()

		env, err := communication.NewStatelessEnvironment(ctx, comm, info, executor.NewDirectExecutor(m))
		if err != nil {
			return err
		}
		defer func() {
			if err2 := env.Close(); err2 != nil {
				logrus.Warningf("invoke: closing the connection failed: %s", err2)
			}
		}()
		proxy, err := env.NewProxy(ctx, &communication.ServiceDescriptor{Name: args[0], Interfaces: []string{invokeInterface}})
		if err != nil {
			return err
		}
		callArgs := make([]any, 0, len(args)-2)
		for _, arg := range args[2:] {
			callArgs = append(callArgs, arg)
		}
		result, err := proxy.Call(ctx, args[1], callArgs...)
		if err != nil {
			return err
		}
		if p, ok := result.(*communication.Proxy); ok {
			fmt.Println("service", p.Service())
			return nil
		}
		encoded, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(encoded))
		return nil
	},
}

func init() {
	invokeCmd.Flags().StringVar(&invokeInterface, "interface", "", "Interface type of the service, eg demo.Echo")
	_ = invokeCmd.MarkFlagRequired("interface")
}
