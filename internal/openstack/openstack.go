// Package openstack builds authenticated gophercloud service clients.
package openstack

import (
	"errors"
	"fmt"

	"github.com/gophercloud/gophercloud"
	gopenstack "github.com/gophercloud/gophercloud/openstack"

	"github.com/splax/conveyor/pkg/config"
)

// Provider holds an authenticated session and the region to resolve endpoints in.
type Provider struct {
	client *gophercloud.ProviderClient
	region string
}

// Authenticate logs in to Keystone with the configured credentials.
func Authenticate(cfg config.OpenStackConfig) (*Provider, error) {
	if cfg.AuthURL == "" {
		return nil, errors.New("openstack auth url is required")
	}
	opts := gophercloud.AuthOptions{
		IdentityEndpoint: cfg.AuthURL,
		Username:         cfg.Username,
		Password:         cfg.Password,
		TenantName:       cfg.ProjectName,
		DomainName:       cfg.DomainName,
		AllowReauth:      true,
	}
	client, err := gopenstack.AuthenticatedClient(opts)
	if err != nil {
		return nil, fmt.Errorf("openstack authenticate: %w", err)
	}
	return &Provider{client: client, region: cfg.Region}, nil
}

func (p *Provider) endpoint() gophercloud.EndpointOpts {
	return gophercloud.EndpointOpts{Region: p.region}
}

// Orchestration returns a Heat v1 client.
func (p *Provider) Orchestration() (*gophercloud.ServiceClient, error) {
	c, err := gopenstack.NewOrchestrationV1(p.client, p.endpoint())
	if err != nil {
		return nil, fmt.Errorf("orchestration client: %w", err)
	}
	return c, nil
}

// Network returns a Neutron v2 client.
func (p *Provider) Network() (*gophercloud.ServiceClient, error) {
	c, err := gopenstack.NewNetworkV2(p.client, p.endpoint())
	if err != nil {
		return nil, fmt.Errorf("network client: %w", err)
	}
	return c, nil
}

// ObjectStorage returns a Swift v1 client.
func (p *Provider) ObjectStorage() (*gophercloud.ServiceClient, error) {
	c, err := gopenstack.NewObjectStorageV1(p.client, p.endpoint())
	if err != nil {
		return nil, fmt.Errorf("object storage client: %w", err)
	}
	return c, nil
}

// IsNotFound reports whether err is a 404 from an OpenStack API.
func IsNotFound(err error) bool {
	var notFound gophercloud.ErrDefault404
	return errors.As(err, &notFound)
}
