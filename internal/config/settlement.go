package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// SettlementPolicy controls how long gateway funds stay pending when the
// gateway does not report an availability date.
type SettlementPolicy struct {
	DefaultDays int                               `mapstructure:"defaultDays"`
	Providers   map[string]ProviderSettlementDays `mapstructure:"providers"`
}

type ProviderSettlementDays struct {
	DefaultDays int            `mapstructure:"defaultDays"`
	Methods     map[string]int `mapstructure:"methods"`
}

func DefaultSettlementPolicy() SettlementPolicy {
	return SettlementPolicy{
		DefaultDays: 2,
		Providers: map[string]ProviderSettlementDays{
			"stripe": {
				DefaultDays: 2,
				Methods: map[string]int{
					"card":   2,
					"pix":    1,
					"boleto": 1,
				},
			},
		},
	}
}

// Days resolves the settlement offset for a provider and payment method,
// falling back to the provider default and then the global default.
func (p SettlementPolicy) Days(provider, method string) int {
	provider = strings.ToLower(strings.TrimSpace(provider))
	method = strings.ToLower(strings.TrimSpace(method))

	if prov, ok := p.Providers[provider]; ok {
		if days, ok := prov.Methods[method]; ok && days >= 0 {
			return days
		}
		if prov.DefaultDays > 0 {
			return prov.DefaultDays
		}
	}
	return p.DefaultDays
}

type SettlementPolicyHolder struct {
	current atomic.Value // holds SettlementPolicy
}

// NewStaticSettlementPolicy wraps a fixed policy without file watching.
func NewStaticSettlementPolicy(policy SettlementPolicy) *SettlementPolicyHolder {
	holder := &SettlementPolicyHolder{}
	holder.current.Store(normalizeSettlementPolicy(policy))
	return holder
}

func NewSettlementPolicyHolder() (*SettlementPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("settlement")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/splitledger/config")
	v.AddConfigPath("/etc/splitledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SPLITLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		return NewStaticSettlementPolicy(DefaultSettlementPolicy()), nil
	}

	policy, err := decodeSettlementPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := &SettlementPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeSettlementPolicy(v)
		if err != nil {
			log.Printf("[settlement-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[settlement-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *SettlementPolicyHolder) Get() SettlementPolicy {
	if h == nil {
		return DefaultSettlementPolicy()
	}
	policy, ok := h.current.Load().(SettlementPolicy)
	if !ok {
		return DefaultSettlementPolicy()
	}
	return policy
}

func decodeSettlementPolicy(v *viper.Viper) (SettlementPolicy, error) {
	var policy SettlementPolicy
	if err := v.UnmarshalKey("settlement", &policy); err != nil {
		return SettlementPolicy{}, err
	}
	policy = normalizeSettlementPolicy(policy)
	if err := validateSettlementPolicy(policy); err != nil {
		return SettlementPolicy{}, err
	}
	return policy, nil
}

func normalizeSettlementPolicy(policy SettlementPolicy) SettlementPolicy {
	out := SettlementPolicy{
		DefaultDays: policy.DefaultDays,
		Providers:   make(map[string]ProviderSettlementDays, len(policy.Providers)),
	}
	for name, prov := range policy.Providers {
		methods := make(map[string]int, len(prov.Methods))
		for method, days := range prov.Methods {
			methods[strings.ToLower(strings.TrimSpace(method))] = days
		}
		out.Providers[strings.ToLower(strings.TrimSpace(name))] = ProviderSettlementDays{
			DefaultDays: prov.DefaultDays,
			Methods:     methods,
		}
	}
	return out
}

func validateSettlementPolicy(policy SettlementPolicy) error {
	if policy.DefaultDays <= 0 {
		return errors.New("settlement.defaultDays must be positive")
	}
	for name, prov := range policy.Providers {
		if prov.DefaultDays < 0 {
			return fmt.Errorf("settlement.providers.%s.defaultDays cannot be negative", name)
		}
		for method, days := range prov.Methods {
			if days < 0 {
				return fmt.Errorf("settlement.providers.%s.methods.%s cannot be negative", name, method)
			}
		}
	}
	return nil
}
