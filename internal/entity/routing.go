package entity

import (
	"fmt"
	"strings"
)

// RoutingKey builds the "{entity}.{service}" key an envelope is published with.
func RoutingKey(t Type, service string) string {
	return string(t) + "." + service
}

// ParseRoutingKey splits a routing key into its entity type and originating service.
func ParseRoutingKey(key string) (Type, string, error) {
	typePart, service, ok := strings.Cut(key, ".")
	if !ok || service == "" || strings.Contains(service, ".") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRouteKey, key)
	}
	t, err := ParseType(typePart)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRouteKey, key)
	}
	return t, service, nil
}

// Bindings returns every routing key the queue of service must be bound to:
// all entity types from all other services. A service is never bound to its
// own keys, so it does not consume the changes it published itself.
func Bindings(service string, services []string) []string {
	seen := make(map[string]struct{}, len(services))
	var keys []string
	for _, t := range types {
		for _, other := range services {
			if other == "" || other == service {
				continue
			}
			key := RoutingKey(t, other)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

// MatchTopic reports whether key matches an AMQP topic binding pattern.
// "*" matches exactly one dot separated word and "#" matches zero or more.
func MatchTopic(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, words []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			rest := pattern[1:]
			for i := 0; i <= len(words); i++ {
				if matchWords(rest, words[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(words) == 0 {
				return false
			}
		default:
			if len(words) == 0 || words[0] != pattern[0] {
				return false
			}
		}
		pattern, words = pattern[1:], words[1:]
	}
	return len(words) == 0
}
