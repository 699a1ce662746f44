package config

// 内置资源表：瑞士联邦卫生局（BAG）发布的 COVID-19 数据。
const (
	bagDocs       = "https://www.bag.admin.ch/dam/bag/de/dokumente/mt/k-und-i/aktuelle-ausbrueche-pandemien/2019-nCoV/"
	dashboardURL  = "https://www.covid19.admin.ch/de/overview"
	dashboardHost = "https://www.covid19.admin.ch"
)

// Builtin 返回内置资源表的副本；配置文件未给出 resources 时使用。
func Builtin() []ResourceConfig {
	return []ResourceConfig{
		{
			Name:   "report_data",
			URL:    bagDocs + "covid-19-datengrundlage-lagebericht.xlsx.download.xlsx/200325_Datengrundlage_Grafiken_COVID-19-Bericht.xlsx",
			Suffix: ".xlsx",
		},
		{
			Name:   "test_data",
			URL:    bagDocs + "covid-19-basisdaten-labortests.xlsx.download.xlsx/Dashboard_3_COVID19_labtests_positivity.xlsx",
			Suffix: ".xlsx",
		},
		{
			Name:   "cases_data",
			URL:    bagDocs + "covid-19-basisdaten-fallzahlen.xlsx.download.xlsx/Dashboards_1&2_COVID19_swiss_data_pv.xlsx",
			Suffix: ".xlsx",
		},
		{
			Name:   "csv_data",
			Page:   dashboardURL,
			Label:  "Daten als .csv",
			Base:   dashboardHost,
			Suffix: ".zip",
		},
		{
			Name:   "json_data",
			Page:   dashboardURL,
			Label:  "Daten als .json",
			Base:   dashboardHost,
			Suffix: ".zip",
		},
	}
}
