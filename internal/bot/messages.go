package bot

import (
	"fmt"
	"strings"
)

const (
	msgAskTaxID         = "ИНН вашего учреждения?"
	msgAskFullName      = "Ваши Фамилия Имя Отчество?"
	msgChooseOrg        = "Выберите учреждение"
	msgChooseGroup      = "Выберите группу"
	msgCancelled        = "Команда отменена"
	msgResetDone        = "Авторизация в Парусе отменена"
	msgPong             = "pong"
	msgInvalidTaxID     = "ИНН должен содержать 10 цифр"
	msgInvalidFullName  = "Введите фамилию, имя и отчество через пробел"
	msgNotAReport       = "Файл не содержит табель посещаемости"
	msgStartHint        = "Для получения табеля отправьте /start, для отправки табеля пришлите файл"
	msgUnknownCommand   = "Неизвестная команда, список команд: /help"
	msgRemoteFailure    = "Парус временно недоступен, повторите попытку позже"
	msgGroupsFailure    = "Ошибка получения списка групп из Паруса: %s"
	msgNoGroups         = "Действующие группы в учреждении не найдены.\nОбратитесь к разработчику %s"
	msgFetchFailure     = "Ошибка получения табеля посещаемости из Паруса: %s"
	msgSubmitFailure    = "Ошибка отправки табеля посещаемости в Парус: %s"
	msgOrgBound         = "Учреждение: %s"
	msgOrgNotConnected  = "Учреждение с ИНН %s не подключено к сервису.\nОбратитесь к разработчику %s"
	msgOrgCodeNotFound  = "Учреждение с мнемокодом \"%s\" и ИНН %s не подключено к сервису.\nОбратитесь к разработчику %s"
	msgPersonNotFound   = "Сотрудник %s в учреждении не найден.\nОбратитесь к разработчику %s"
	msgSubmittedDefault = "Табель посещаемости загружен в Парус"
)

var commandHelp = []struct{ name, desc string }{
	{CommandStart, "получение табеля из Паруса"},
	{CommandGroup, "выбор другой группы"},
	{CommandOrg, "выбор другого учреждения"},
	{CommandCancel, "отмена текущей команды"},
	{CommandReset, "отмена авторизации в Парусе"},
	{CommandPing, "проверка отклика бота"},
	{CommandHelp, "что может делать этот бот?"},
}

// helpText renders the /help answer in Markdown.
func helpText(developer, contact string) string {
	var b strings.Builder

	b.WriteString("Получение и отправка табелей из мобильного приложения ")
	b.WriteString("[Табели посещаемости](https://github.com/parusinf/timesheets)")
	b.WriteString(" в систему управления [Парус](https://parus.com/)\n")
	b.WriteString("\n*Команды*\n")
	for _, c := range commandHelp {
		fmt.Fprintf(&b, "/%s - %s\n", c.name, c.desc)
	}
	b.WriteString("\nДля отправки табеля в Парус отправьте его боту из мобильного приложения\n")
	b.WriteString("\n*Разработчик*\n")
	b.WriteString(strings.TrimSpace(developer + " " + contact))

	return b.String()
}
