package main

import (
	"headtrack-x/config"
	"headtrack-x/wire"
)

func codecFromConfig(p config.ProtocolConfig) wire.Codec {
	return wire.Codec{
		Issuer:           p.Issuer,
		Version:          p.Version,
		AnnounceVersion:  p.AnnounceVersion,
		ResponsePrefix:   p.ResponsePrefix,
		DefaultIntensity: uint8(p.DefaultIntensity),
	}
}
