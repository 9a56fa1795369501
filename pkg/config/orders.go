package config

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"saxotrader/pkg/scheduler"
)

// Order is one entry of the orders mapping. Exactly one of Cron or Time is
// set; Time is a daily "HH:MM" shorthand.
type Order struct {
	Name    string         `yaml:"-"`
	Cron    string         `yaml:"cron"`
	Time    string         `yaml:"time"`
	Account string         `yaml:"account"`
	Payload map[string]any `yaml:"payload"`
}

// OrderList keeps orders in the order they appear in the file.
type OrderList []Order

// UnmarshalYAML decodes the orders mapping, preserving key order.
func (l *OrderList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("orders: line %d: expected a mapping of order name to definition", node.Line)
	}

	out := make(OrderList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		var o Order
		if err := value.Decode(&o); err != nil {
			return fmt.Errorf("orders.%s: %w", key.Value, err)
		}
		o.Name = key.Value
		out = append(out, o)
	}
	*l = out
	return nil
}

// resolveOrders expands time shorthands, injects account keys and checks
// every order, returning one error per problem.
func (c *Config) resolveOrders() []error {
	var errs []error
	seen := make(map[string]bool, len(c.Orders))
	for i := range c.Orders {
		o := &c.Orders[i]
		prefix := "orders." + o.Name

		if seen[o.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate order name", prefix))
		}
		seen[o.Name] = true

		switch {
		case o.Cron != "" && o.Time != "":
			errs = append(errs, fmt.Errorf("%s: set either cron or time, not both", prefix))
		case o.Time != "":
			expr, err := dailyCron(o.Time)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s.time: %w", prefix, err))
			} else {
				o.Cron = expr
			}
		case o.Cron == "":
			errs = append(errs, fmt.Errorf("%s: cron or time is required", prefix))
		default:
			if _, err := cron.ParseStandard(o.Cron); err != nil {
				errs = append(errs, fmt.Errorf("%s.cron: %w", prefix, err))
			}
		}

		if len(o.Payload) == 0 {
			errs = append(errs, fmt.Errorf("%s.payload: required", prefix))
		}

		if o.Account != "" {
			key, ok := c.Accounts[o.Account]
			if !ok {
				errs = append(errs, fmt.Errorf("%s.account: unknown account %q", prefix, o.Account))
				continue
			}
			if o.Payload == nil {
				o.Payload = map[string]any{}
			}
			o.Payload["AccountKey"] = key
		}
	}
	return errs
}

// dailyCron turns "HH:MM" into "M H * * *".
func dailyCron(hhmm string) (string, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok {
		return "", fmt.Errorf("expected HH:MM, got %q", hhmm)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", hhmm)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", hhmm)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// SchedulerOrders returns the resolved orders for the scheduler.
func (c *Config) SchedulerOrders() []scheduler.Order {
	out := make([]scheduler.Order, 0, len(c.Orders))
	for _, o := range c.Orders {
		out = append(out, scheduler.Order{
			Name:    o.Name,
			Cron:    o.Cron,
			Payload: maps.Clone(o.Payload),
		})
	}
	return out
}
