package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/orchidlake/llmstudio/common/client"
	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/llm/tool"
)

var (
	geocodingEndpoint      = "https://geocoding-api.open-meteo.com/v1/search"
	defaultWeatherEndpoint = "https://api.open-meteo.com/v1/forecast"
)

const weatherRequestVariables = "temperature_2m,relative_humidity_2m,weather_code,wind_speed_10m"

// weatherCodes maps WMO weather interpretation codes to short descriptions.
var weatherCodes = map[int]string{
	0: "clear sky", 1: "mainly clear", 2: "partly cloudy", 3: "overcast",
	45: "fog", 48: "depositing rime fog",
	51: "light drizzle", 53: "moderate drizzle", 55: "dense drizzle",
	61: "slight rain", 63: "moderate rain", 65: "heavy rain",
	71: "slight snow", 73: "moderate snow", 75: "heavy snow",
	80: "slight rain showers", 81: "moderate rain showers", 82: "violent rain showers",
	95: "thunderstorm", 96: "thunderstorm with slight hail", 99: "thunderstorm with heavy hail",
}

func buildWeather() (*tool.Spec, error) {
	return tool.NewSpec(
		"get_weather",
		"Get the current weather for a city or place name.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "City or place name, e.g. 'Berlin' or 'Kyoto, Japan'",
				},
			},
			"required": []string{"location"},
		},
		weatherHandler,
	), nil
}

func weatherHandler(ctx context.Context, input map[string]any) (map[string]any, error) {
	location, _ := input["location"].(string)
	if location == "" {
		return nil, errors.New("location is required")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(config.ToolTimeout)*time.Second)
	defer cancel()

	lat, lon, resolved, err := geocode(ctx, location)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve location %q", location)
	}

	endpoint := config.WeatherEndpoint
	if endpoint == "" {
		endpoint = defaultWeatherEndpoint
	}
	query := url.Values{}
	query.Set("latitude", fmt.Sprintf("%.4f", lat))
	query.Set("longitude", fmt.Sprintf("%.4f", lon))
	query.Set("current", weatherRequestVariables)

	var forecast struct {
		Current struct {
			Temperature float64 `json:"temperature_2m"`
			Humidity    float64 `json:"relative_humidity_2m"`
			WeatherCode int     `json:"weather_code"`
			WindSpeed   float64 `json:"wind_speed_10m"`
		} `json:"current"`
		CurrentUnits struct {
			Temperature string `json:"temperature_2m"`
			WindSpeed   string `json:"wind_speed_10m"`
		} `json:"current_units"`
	}
	if err := getJSON(ctx, endpoint+"?"+query.Encode(), &forecast); err != nil {
		return nil, errors.Wrap(err, "fetch forecast")
	}

	condition := weatherCodes[forecast.Current.WeatherCode]
	if condition == "" {
		condition = fmt.Sprintf("weather code %d", forecast.Current.WeatherCode)
	}

	return map[string]any{
		"location":    resolved,
		"condition":   condition,
		"temperature": fmt.Sprintf("%.1f%s", forecast.Current.Temperature, forecast.CurrentUnits.Temperature),
		"humidity":    fmt.Sprintf("%.0f%%", forecast.Current.Humidity),
		"wind_speed":  fmt.Sprintf("%.1f%s", forecast.Current.WindSpeed, forecast.CurrentUnits.WindSpeed),
	}, nil
}

func geocode(ctx context.Context, location string) (lat, lon float64, resolved string, err error) {
	query := url.Values{}
	query.Set("name", location)
	query.Set("count", "1")

	var geo struct {
		Results []struct {
			Name      string  `json:"name"`
			Country   string  `json:"country"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	if err = getJSON(ctx, geocodingEndpoint+"?"+query.Encode(), &geo); err != nil {
		return 0, 0, "", err
	}
	if len(geo.Results) == 0 {
		return 0, 0, "", errors.Errorf("no match for %q", location)
	}

	top := geo.Results[0]
	resolved = top.Name
	if top.Country != "" {
		resolved += ", " + top.Country
	}
	return top.Latitude, top.Longitude, resolved, nil
}

func getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
