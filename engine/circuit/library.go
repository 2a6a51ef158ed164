package circuit

import "fmt"

// Category groups catalog parts in the palette.
type Category string

const (
	CategoryMicrocontroller Category = "microcontroller"
	CategoryInput           Category = "input"
	CategoryOutput          Category = "output"
	CategoryPassive         Category = "passive"
	CategoryPower           Category = "power"
	CategorySensor          Category = "sensor"
	CategoryMotor           Category = "motor"
)

// Definition describes a catalog part: its pins and footprint.
type Definition struct {
	Type         ComponentType `json:"type"`
	Name         string        `json:"name"`
	Category     Category      `json:"category"`
	Description  string        `json:"description"`
	Pins         []Pin         `json:"pins"`
	Width        float64       `json:"width"`
	Height       float64       `json:"height"`
	DefaultValue string        `json:"default_value,omitempty"`
}

func pin(id, name string, role PinRole) Pin { return Pin{ID: id, Name: name, Role: role} }

func ledDef(t ComponentType, color string) Definition {
	return Definition{
		Type:        t,
		Name:        "LED (" + color + ")",
		Category:    CategoryOutput,
		Description: color + " light emitting diode",
		Pins:        []Pin{pin("anode", "Anode (+)", RoleInput), pin("cathode", "Cathode (-)", RoleGround)},
		Width:       40,
		Height:      60,
	}
}

func arduinoPins() []Pin {
	pins := make([]Pin, 0, 25)
	for i := 0; i <= 13; i++ {
		pins = append(pins, pin(fmt.Sprintf("d%d", i), fmt.Sprintf("D%d", i), RoleDigital))
	}
	for i := 0; i <= 5; i++ {
		pins = append(pins, pin(fmt.Sprintf("a%d", i), fmt.Sprintf("A%d", i), RoleAnalog))
	}
	return append(pins,
		pin("5v", "5V", RolePower),
		pin("3v3", "3.3V", RolePower),
		pin("vin", "VIN", RolePower),
		pin("gnd1", "GND", RoleGround),
		pin("gnd2", "GND", RoleGround),
	)
}

// catalog lists every placeable part in palette order.
var catalog = []Definition{
	{
		Type: TypeArduinoUno, Name: "Arduino Uno", Category: CategoryMicrocontroller,
		Description: "ATmega328P microcontroller board",
		Pins:        arduinoPins(), Width: 200, Height: 120,
	},
	ledDef(TypeLEDRed, "Red"),
	ledDef(TypeLEDGreen, "Green"),
	ledDef(TypeLEDBlue, "Blue"),
	ledDef(TypeLEDYellow, "Yellow"),
	{
		Type: TypeRGBLED, Name: "RGB LED", Category: CategoryOutput,
		Description: "Common cathode RGB LED",
		Pins: []Pin{
			pin("red", "Red", RoleInput),
			pin("green", "Green", RoleInput),
			pin("blue", "Blue", RoleInput),
			pin("cathode", "Cathode", RoleGround),
		},
		Width: 50, Height: 70,
	},
	{
		Type: TypeResistor, Name: "Resistor", Category: CategoryPassive,
		Description: "Current limiting resistor",
		Pins:        []Pin{pin("pin1", "Pin 1", RoleInput), pin("pin2", "Pin 2", RoleOutput)},
		Width:       60, Height: 20, DefaultValue: "1000",
	},
	{
		Type: TypePushButton, Name: "Push Button", Category: CategoryInput,
		Description: "Momentary tactile switch",
		Pins:        []Pin{pin("pin1", "Pin 1", RoleInput), pin("pin2", "Pin 2", RoleOutput)},
		Width:       40, Height: 40,
	},
	{
		Type: TypePotentiometer, Name: "Potentiometer", Category: CategoryInput,
		Description: "Variable resistor",
		Pins: []Pin{
			pin("vcc", "VCC", RolePower),
			pin("wiper", "Wiper", RoleOutput),
			pin("gnd", "GND", RoleGround),
		},
		Width: 50, Height: 50, DefaultValue: "10000",
	},
	{
		Type: TypeBattery9V, Name: "9V Battery", Category: CategoryPower,
		Description: "9 volt battery",
		Pins:        []Pin{pin("positive", "+", RolePower), pin("negative", "-", RoleGround)},
		Width:       50, Height: 80,
	},
	{
		Type: TypeDHT11, Name: "DHT11 Sensor", Category: CategorySensor,
		Description: "Temperature and humidity sensor",
		Pins: []Pin{
			pin("vcc", "VCC", RolePower),
			pin("data", "Data", RoleOutput),
			pin("gnd", "GND", RoleGround),
		},
		Width: 50, Height: 60,
	},
	{
		Type: TypeDCMotor, Name: "DC Motor", Category: CategoryMotor,
		Description: "Brushed DC motor",
		Pins:        []Pin{pin("pin1", "Pin 1", RoleInput), pin("pin2", "Pin 2", RoleInput)},
		Width:       60, Height: 60,
	},
	{
		Type: TypeServoMotor, Name: "Servo Motor", Category: CategoryMotor,
		Description: "Positional servo",
		Pins: []Pin{
			pin("vcc", "VCC", RolePower),
			pin("signal", "Signal", RoleInput),
			pin("gnd", "GND", RoleGround),
		},
		Width: 70, Height: 50,
	},
	{
		Type: TypeBuzzer, Name: "Buzzer", Category: CategoryOutput,
		Description: "Piezo buzzer",
		Pins:        []Pin{pin("positive", "+", RoleInput), pin("negative", "-", RoleGround)},
		Width:       40, Height: 40,
	},
}

var byType = func() map[ComponentType]Definition {
	m := make(map[ComponentType]Definition, len(catalog))
	for _, d := range catalog {
		m[d.Type] = d
	}
	return m
}()

// Lookup returns the catalog definition for t.
func Lookup(t ComponentType) (Definition, error) {
	d, ok := byType[t]
	if !ok {
		return Definition{}, NewGraphError("lookup", string(t), ErrUnknownType)
	}
	d.Pins = append([]Pin(nil), d.Pins...)
	return d, nil
}

// Definitions returns the catalog in palette order.
func Definitions() []Definition {
	out := make([]Definition, len(catalog))
	for i, d := range catalog {
		d.Pins = append([]Pin(nil), d.Pins...)
		out[i] = d
	}
	return out
}

// ByCategory groups the catalog by category, keeping palette order within each group.
func ByCategory() map[Category][]Definition {
	out := make(map[Category][]Definition)
	for _, d := range Definitions() {
		out[d.Category] = append(out[d.Category], d)
	}
	return out
}

// NewComponent instantiates def at (x, y). Negative coordinates are clamped to zero.
func NewComponent(def Definition, id string, x, y float64) Component {
	return Component{
		ID:    id,
		Type:  def.Type,
		Name:  def.Name,
		X:     max(x, 0),
		Y:     max(y, 0),
		Pins:  append([]Pin(nil), def.Pins...),
		Value: def.DefaultValue,
	}
}
