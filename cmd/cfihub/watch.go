package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/progress"
	"github.com/dropDatabas3/cfihub/internal/pubsub"
)

func newWatchCmd() *cobra.Command {
	var (
		baseURL  string
		topic    string
		taskID   string
		subTok   string
		session  string
		window   time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sigue el progreso de una tarea por SSE y luego relee su estado",
		RunE: func(cmd *cobra.Command, args []string) error {
			if topic == "" || subTok == "" {
				return errors.New("--topic y --token son requeridos")
			}
			if taskID == "" {
				taskID = strings.TrimPrefix(topic, "tasks/")
				if taskID == topic {
					return errors.New("--task es requerido para topics de conversación")
				}
			}
			ctx, stop := signalContext()
			defer stop()

			out := cmd.OutOrStdout()
			events, err := subscribe(ctx, baseURL, topic, subTok)
			if err != nil {
				return err
			}

			opts := progress.Options{
				TaskID:       taskID,
				Window:       window,
				PollInterval: interval,
				OnUpdate: func(u progress.Update) {
					switch u.Event.Type {
					case pubsub.EventChunk:
						fmt.Fprint(out, u.Event.Delta)
					case pubsub.EventFailed:
						fmt.Fprintf(out, "\n[failed] %s\n", u.Event.Reason)
					default:
						fmt.Fprintf(out, "[%s] %d%%\n", u.Event.Type, u.Percent)
					}
				},
			}
			if session != "" {
				opts.Poll = func(ctx context.Context) (repository.TaskStatus, error) {
					var t struct {
						Status repository.TaskStatus `json:"status"`
					}
					body, err := fetchTask(ctx, baseURL, taskID, session)
					if err != nil {
						return "", err
					}
					if err := json.Unmarshal(body, &t); err != nil {
						return "", err
					}
					return t.Status, nil
				}
			}

			_, err = progress.Watch(ctx, events, opts)
			if errors.Is(err, progress.ErrStillRunning) {
				fmt.Fprintln(out, err.Error())
				return nil
			}
			if err != nil {
				return err
			}

			// el evento sólo avisa: el estado autoritativo se relee por REST
			if session == "" {
				return nil
			}
			return printTask(ctx, out, baseURL, taskID, session)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", envOr("CFIHUB_URL", "http://localhost:8080"), "URL base de la API (env CFIHUB_URL)")
	cmd.Flags().StringVar(&topic, "topic", "", "Topic a seguir (tasks/<id> o conversations/<id>)")
	cmd.Flags().StringVar(&taskID, "task", "", "Id de la tarea (por defecto se toma de tasks/<id>)")
	cmd.Flags().StringVar(&subTok, "token", "", "Token de suscripción devuelto al encolar")
	cmd.Flags().StringVar(&session, "session", os.Getenv("CFIHUB_SESSION"), "Cookie de sesión para releer la tarea (env CFIHUB_SESSION)")
	cmd.Flags().DurationVar(&window, "timeout", progress.DefaultWindow, "Ventana máxima de espera")
	cmd.Flags().DurationVar(&interval, "poll", progress.DefaultPollInterval, "Intervalo de relectura del estado (requiere --session)")
	return cmd
}

// subscribe abre el stream SSE y lo expone como canal. El canal se cierra
// cuando termina el stream o se cancela ctx.
func subscribe(ctx context.Context, baseURL, topic, subTok string) (<-chan pubsub.Event, error) {
	q := url.Values{"topic": {topic}, "token": {subTok}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/events?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, fmt.Errorf("events: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	ch := make(chan pubsub.Event, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		_ = pubsub.ReadSSE(resp.Body, func(ev pubsub.Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return ch, nil
}

func fetchTask(ctx context.Context, baseURL, taskID, session string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tasks/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: envOr("CFIHUB_SESSION_COOKIE", "sid"), Value: session})

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("task %s: status=%d body=%s", taskID, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func printTask(ctx context.Context, out io.Writer, baseURL, taskID, session string) error {
	body, err := fetchTask(ctx, baseURL, taskID, session)
	if err != nil {
		return err
	}
	var v any
	if json.Unmarshal(body, &v) == nil {
		pretty, _ := json.MarshalIndent(v, "", "  ")
		fmt.Fprintln(out, string(pretty))
		return nil
	}
	fmt.Fprintln(out, string(body))
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
