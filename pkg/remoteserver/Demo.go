package remoteserver

import (
	"context"
	"strings"
	"time"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/typeresolver"
)

// Demo accounts
const (
	DemoUser           = "alice"
	DemoPassword       = "alice-password"
	DemoSingleUser     = "bob"
	DemoSinglePassword = "bob-password"
)

// Demo service names
const (
	DemoEchoService  = "echo"
	DemoClockService = "clock"
)

// Demo interface types
var (
	DemoEchoType       = &typeresolver.Type{Name: "demo.Echo", Methods: []string{"echo", "upper"}}
	DemoClockType      = &typeresolver.Type{Name: "demo.Clock", Methods: []string{"now", "echoService", "status"}}
	DemoContextSales   = session.ContextSelection{ApplicationContext: "sales", Locale: "en"}
	DemoContextSupport = session.ContextSelection{ApplicationContext: "support", Locale: "nl"}
)

// NewDemoServer creates a server with demo accounts, an echo and a clock service
//
// alice may choose between the sales and support contexts, bob only has support.
// The echo service is shared, so clients bridge it with their local instance.
func NewDemoServer(secretValidity time.Duration) *Server {
	srv := NewServer(secretValidity)
	srv.AddUser(User{Name: DemoUser, Password: DemoPassword,
		Contexts: []session.ContextSelection{DemoContextSales, DemoContextSupport}})
	srv.AddUser(User{Name: DemoSingleUser, Password: DemoSinglePassword,
		Contexts: []session.ContextSelection{DemoContextSupport}})
	srv.AddTypes(DemoEchoType, DemoClockType)
	srv.SetMainUI(&communication.UIDefinition{
		Title: "Demo",
		Menus: []communication.MenuDefinition{{
			ID: "file", Label: "File",
			Items: []communication.MenuItem{
				{ID: "logout", Label: "Logout", Action: "session.logout"},
				{ID: "exit", Label: "Exit", Action: "session.shutdown"},
			},
		}},
		Toolbars: []communication.MenuDefinition{{
			ID: "main", Label: "Main",
			Items: []communication.MenuItem{{ID: "refresh", Label: "Refresh"}},
		}},
	})

	echo := NewServiceHost(DemoEchoService, true, DemoEchoType)
	_ = echo.HandleValue(DemoEchoType, "echo", func(_ context.Context, call *Call) (any, error) {
		var text string
		err := call.Arg(0, &text)
		return text, err
	})
	_ = echo.HandleValue(DemoEchoType, "upper", func(_ context.Context, call *Call) (any, error) {
		var text string
		err := call.Arg(0, &text)
		return strings.ToUpper(text), err
	})
	_ = srv.RegisterService(echo)

	clock := NewServiceHost(DemoClockService, false, DemoClockType)
	_ = clock.HandleValue(DemoClockType, "now", func(_ context.Context, _ *Call) (any, error) {
		return time.Now().UTC(), nil
	})
	_ = clock.Handle(DemoClockType, "echoService", func(_ context.Context, _ *Call) (*communication.InvocationResult, error) {
		return communication.NewServiceResult(echo.Descriptor), nil
	})
	_ = clock.Handle(DemoClockType, "status", func(_ context.Context, call *Call) (*communication.InvocationResult, error) {
		user, err := communication.NewValueResult(call.User)
		if err != nil {
			return nil, err
		}
		applicationContext, err := communication.NewValueResult(call.Context)
		if err != nil {
			return nil, err
		}
		return communication.NewComplexResult(map[string]*communication.InvocationResult{
			"user":    user,
			"context": applicationContext,
			"echo":    communication.NewServiceResult(echo.Descriptor),
		}), nil
	})
	_ = srv.RegisterService(clock)
	return srv
}
