// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

//go:build integration

package integration

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/capstanhq/capstan/internal/builtin"
	"github.com/capstanhq/capstan/internal/bus"
	"github.com/capstanhq/capstan/internal/event"
	"github.com/capstanhq/capstan/internal/lifecycle"
	"github.com/capstanhq/capstan/internal/registry"
	"github.com/capstanhq/capstan/internal/sandbox"
	"github.com/capstanhq/capstan/pkg/plugin"
)

// slowTool blocks until released, for exercising sandbox timeouts.
type slowTool struct {
	release chan struct{}
}

func (s *slowTool) Name() string                                 { return "slow" }
func (s *slowTool) Version() string                              { return "1.0.0" }
func (s *slowTool) Description() string                          { return "blocks until released" }
func (s *slowTool) Initialize(context.Context, map[string]any) error { return nil }
func (s *slowTool) Shutdown(context.Context) error               { return nil }

func (s *slowTool) Execute(context.Context, map[string]any) (any, error) {
	<-s.release
	return "done", nil
}

// relayPlugin is a background plugin answering requests on a bus
// channel, for exercising request/response correlation end to end.
type relayPlugin struct {
	bus    *bus.Bus
	stream <-chan bus.Message
	done   chan struct{}
}

func (r *relayPlugin) Name() string                                 { return "relay" }
func (r *relayPlugin) Version() string                              { return "1.0.0" }
func (r *relayPlugin) Description() string                          { return "answers uppercase requests" }
func (r *relayPlugin) Initialize(context.Context, map[string]any) error { return nil }
func (r *relayPlugin) Shutdown(ctx context.Context) error           { return r.Stop(ctx) }
func (r *relayPlugin) IsRunning() bool                              { return r.done != nil }

func (r *relayPlugin) Start(context.Context) error {
	stream, err := r.bus.Subscribe("relay.requests", r.Name())
	if err != nil {
		return err
	}
	r.stream = stream
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for msg := range r.stream {
			if msg.Type != bus.TypeRequest {
				continue
			}
			text, _ := msg.Data.(string)
			r.bus.Send(msg.Channel, bus.NewResponse(msg, r.Name(), "relayed:"+text))
		}
	}()
	return nil
}

func (r *relayPlugin) Stop(context.Context) error {
	if r.done == nil {
		return nil
	}
	r.bus.Unsubscribe("relay.requests", r.Name())
	<-r.done
	r.done = nil
	return nil
}

var _ = Describe("Plugin host", func() {
	var (
		ctx         context.Context
		cancel      context.CancelFunc
		msgBus      *bus.Bus
		broadcaster *event.Broadcaster
		reg         *registry.Registry
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		msgBus = bus.New()
		broadcaster = event.NewBroadcaster()
		reg = registry.New(
			registry.WithSDKVersion("1.0.0"),
			registry.WithResourceManager(sandbox.NewMemoryPool(256)),
			registry.WithEventSink(broadcaster),
		)
	})

	AfterEach(func() {
		Expect(reg.Shutdown(ctx)).To(Succeed())
		broadcaster.Close()
		cancel()
	})

	registerBuiltins := func() {
		Expect(reg.Register(ctx, builtin.NewEcho(), &plugin.Config{
			Settings: map[string]any{"prefix": "> "},
		})).To(Succeed())
		Expect(reg.Register(ctx, builtin.NewHeartbeat(msgBus), &plugin.Config{
			Settings: map[string]any{"interval": "20ms"},
		})).To(Succeed())
		Expect(reg.Register(ctx, builtin.NewSysInfo(), nil)).To(Succeed())
		Expect(reg.Register(ctx, builtin.NewGreeting(), nil)).To(Succeed())
		Expect(reg.Register(ctx, builtin.NewLogNotifier(msgBus), nil)).To(Succeed())
	}

	Describe("builtin plugin set", func() {
		BeforeEach(registerBuiltins)

		It("registers every builtin in initialized state", func() {
			Expect(reg.Names()).To(Equal([]string{"echo", "heartbeat", "sysinfo", "greeting", "log-notifier"}))
			for _, name := range reg.Names() {
				state, ok := reg.Lifecycle().StateOf(name)
				Expect(ok).To(BeTrue())
				Expect(state).To(Equal(lifecycle.StateInitialized))
			}
		})

		It("executes the echo tool with its configured prefix", func() {
			result, err := reg.ExecuteTool(ctx, "echo", map[string]any{
				"text":      "hello",
				"uppercase": true,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("> HELLO"))
		})

		It("rejects echo arguments that violate the published schema", func() {
			_, err := reg.ExecuteTool(ctx, "echo", map[string]any{"uppercase": true})
			Expect(err).To(MatchError(registry.ErrArgsInvalid))
		})

		It("serves sysinfo resources", func() {
			result, err := reg.GetResource(ctx, "sysinfo", "sysinfo://runtime", nil)
			Expect(err).NotTo(HaveOccurred())
			info, ok := result.(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(info).To(HaveKey("go_version"))
		})

		It("renders the greeting prompt", func() {
			result, err := reg.ExecutePrompt(ctx, "greeting", map[string]any{"name": "operator"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(ContainSubstring("operator"))
		})

		It("mirrors notifications onto the bus", func() {
			stream, err := msgBus.Subscribe(builtin.NotificationChannel, "test-observer")
			Expect(err).NotTo(HaveOccurred())
			defer msgBus.Unsubscribe(builtin.NotificationChannel, "test-observer")

			Expect(reg.ShowNotification(ctx, "log-notifier", "Deploy", "all green")).To(Succeed())

			var msg bus.Message
			Eventually(stream).Should(Receive(&msg))
			data, ok := msg.Data.(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(data["title"]).To(Equal("Deploy"))
		})
	})

	Describe("background plugins", func() {
		BeforeEach(registerBuiltins)

		It("publishes heartbeat ticks on the bus once started", func() {
			stream, err := msgBus.Subscribe(builtin.HeartbeatChannel, "test-observer")
			Expect(err).NotTo(HaveOccurred())
			defer msgBus.Unsubscribe(builtin.HeartbeatChannel, "test-observer")

			Expect(reg.StartPlugin(ctx, "heartbeat")).To(Succeed())

			var msg bus.Message
			Eventually(stream, "2s").Should(Receive(&msg))
			Expect(msg.Sender).To(Equal("heartbeat"))
			Expect(msg.Type).To(Equal(bus.TypeNotification))

			hb, ok := reg.Background("heartbeat")
			Expect(ok).To(BeTrue())
			Expect(hb.IsRunning()).To(BeTrue())

			Expect(reg.StopPlugin(ctx, "heartbeat")).To(Succeed())
			Expect(hb.IsRunning()).To(BeFalse())
		})

		It("suspends and resumes a started plugin", func() {
			Expect(reg.StartPlugin(ctx, "heartbeat")).To(Succeed())

			Expect(reg.SuspendPlugin("heartbeat")).To(Succeed())
			state, _ := reg.Lifecycle().StateOf("heartbeat")
			Expect(state).To(Equal(lifecycle.StateSuspended))

			Expect(reg.ResumePlugin("heartbeat")).To(Succeed())
			state, _ = reg.Lifecycle().StateOf("heartbeat")
			Expect(state).To(Equal(lifecycle.StateStarted))
		})
	})

	Describe("dependency ordering", func() {
		It("enforces start order and reverse stop order across plugins", func() {
			hb := builtin.NewHeartbeat(msgBus)
			Expect(reg.Register(ctx, hb, &plugin.Config{
				Settings: map[string]any{"interval": "50ms"},
			})).To(Succeed())

			relay := &relayPlugin{bus: msgBus}
			Expect(reg.Register(ctx, relay, &plugin.Config{
				Dependencies: map[string]string{"heartbeat": "^1.0.0"},
			})).To(Succeed())

			// The dependent cannot start before its dependency.
			err := reg.StartPlugin(ctx, "relay")
			Expect(err).To(MatchError(lifecycle.ErrDependencyUnsatisfied))

			Expect(reg.StartPlugin(ctx, "heartbeat")).To(Succeed())
			Expect(reg.StartPlugin(ctx, "relay")).To(Succeed())

			// The dependency cannot stop while the dependent runs.
			err = reg.StopPlugin(ctx, "heartbeat")
			Expect(err).To(MatchError(lifecycle.ErrDependencyUnsatisfied))

			Expect(reg.StopPlugin(ctx, "relay")).To(Succeed())
			Expect(reg.StopPlugin(ctx, "heartbeat")).To(Succeed())
		})
	})

	Describe("request/response over the bus", func() {
		It("correlates responses with their requests", func() {
			relay := &relayPlugin{bus: msgBus}
			Expect(reg.Register(ctx, relay, nil)).To(Succeed())
			Expect(reg.StartPlugin(ctx, "relay")).To(Succeed())

			req := bus.NewMessage("client", "relay.requests", bus.TypeRequest, "ping")
			resp, err := msgBus.Request(ctx, "relay.requests", req, 2*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.CorrelationID).To(Equal(req.ID))
			Expect(resp.Data).To(Equal("relayed:ping"))

			Expect(reg.StopPlugin(ctx, "relay")).To(Succeed())
		})
	})

	Describe("sandbox enforcement", func() {
		It("abandons operations that exceed their execution timeout", func() {
			slow := &slowTool{release: make(chan struct{})}
			defer close(slow.release)

			Expect(reg.Register(ctx, slow, &plugin.Config{
				Sandbox: &plugin.SandboxConfig{
					ExecutionTimeout: plugin.Duration(50 * time.Millisecond),
				},
			})).To(Succeed())

			_, err := reg.ExecuteTool(ctx, "slow", nil)
			Expect(errors.Is(err, sandbox.ErrTimeout)).To(BeTrue())
		})

		It("rejects registrations that exceed the memory budget", func() {
			echo := builtin.NewEcho()
			err := reg.Register(ctx, echo, &plugin.Config{
				Sandbox: &plugin.SandboxConfig{MaxMemoryMB: 4096},
			})
			Expect(errors.Is(err, sandbox.ErrBudgetExhausted)).To(BeTrue())
			Expect(reg.Names()).To(BeEmpty())
		})
	})

	Describe("host events", func() {
		It("broadcasts registration and state change events", func() {
			events := broadcaster.Subscribe()

			Expect(reg.Register(ctx, builtin.NewEcho(), nil)).To(Succeed())

			seen := map[event.Type]bool{}
			Eventually(func() bool {
				for {
					select {
					case e := <-events:
						seen[e.Type] = true
					default:
						return seen[event.TypePluginRegistered] && seen[event.TypeStateChanged]
					}
				}
			}).Should(BeTrue())
		})
	})
})
