package factory

import (
	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/da/capabilities"

	cdacaps "github.com/shimmeringbee/cda/capabilities"
	"github.com/shimmeringbee/cda/implcaps"
	"github.com/shimmeringbee/cda/implcaps/cloud/binary_actuator"
	"github.com/shimmeringbee/cda/implcaps/cloud/humidifier"
	"github.com/shimmeringbee/cda/implcaps/cloud/meter"
	"github.com/shimmeringbee/cda/implcaps/cloud/remote_panel"
	"github.com/shimmeringbee/cda/implcaps/generic/product_information"
)

const GenericProductInformation = "GenericProductInformation"
const CloudBinaryActuator = "CloudBinaryActuator"
const CloudHumidifier = "CloudHumidifier"
const CloudMeter = "CloudMeter"
const CloudRemotePanel = "CloudRemotePanel"

// Mapping holds the primary capability flag per implementation. An
// implementation may surface under further flags through
// implcaps.MultiCapability.
var Mapping = map[string]da.Capability{
	GenericProductInformation: capabilities.ProductInformationFlag,
	CloudBinaryActuator:       capabilities.OnOffFlag,
	CloudHumidifier:           cdacaps.HumidistatFlag,
	CloudMeter:                capabilities.TemperatureSensorFlag,
	CloudRemotePanel:          cdacaps.RemoteControlFlag,
}

func Create(name string, iface implcaps.CDAInterface) implcaps.CDACapability {
	switch name {
	case GenericProductInformation:
		return product_information.NewProductInformation()
	case CloudBinaryActuator:
		return binary_actuator.NewBinaryActuator(iface)
	case CloudHumidifier:
		return humidifier.NewHumidifier(iface)
	case CloudMeter:
		return meter.NewMeter(iface)
	case CloudRemotePanel:
		return remote_panel.NewRemotePanel(iface)
	default:
		return nil
	}
}
